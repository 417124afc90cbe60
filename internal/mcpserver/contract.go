package mcpserver

// SessionGuide tells LLM consumers how documents move through a session.
const SessionGuide = `# Quire Session Guide

Quire keeps a set of open documents. Exactly one of them is current while
any are open.

## Documents

- **Persisted** documents are backed by a file. Their path is absolute.
- **Temporary** documents have no file yet. Their path looks like
  ` + "`" + `temp://<name>` + "`" + ` and the name is unique among open documents.
- A document is **modified** when its buffer differs from what was last
  read or saved. An empty temporary document is never worth keeping and is
  dropped the next time a file is opened.

## Workflow

1. ` + "`" + `list_documents` + "`" + ` shows what is open and which document is current.
2. ` + "`" + `open_document` + "`" + ` opens a file, or only switches to it when it is
   already open. Executables and archives are refused.
3. ` + "`" + `update_document` + "`" + ` replaces a buffer. Nothing reaches disk until
   ` + "`" + `save_document` + "`" + ` is called.
4. ` + "`" + `save_document` + "`" + ` writes a buffer back in the encoding it was read
   with. Temporary documents need a ` + "`" + `target` + "`" + ` path; after saving they
   become persisted under that path.
5. ` + "`" + `close_document` + "`" + ` drops a document without saving it.

## Rules

1. Line endings are kept as they are in the buffer; do not normalise them.
2. Files changed outside Quire are reloaded automatically when the buffer
   is unmodified. A modified buffer is never overwritten silently.
3. Paths may be relative to the workspace root.
`
