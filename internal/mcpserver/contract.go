package mcpserver

// MemoFormatContract describes how memos are stored on disk, for agents and
// tools that read or edit memo files directly.
const MemoFormatContract = `# Memoranda Memo Format

Every memo is one Markdown file inside a ` + "`" + `.memoranda` + "`" + ` directory of the
repository. The file name is ` + "`" + `<title>-<ID>.md` + "`" + `, where ` + "`" + `<ID>` + "`" + ` is a
26-character ULID and ` + "`" + `<title>` + "`" + ` is the title with characters unsafe for file
names replaced by ` + "`" + `_` + "`" + `.

## Structure

` + "```" + `markdown
---
id: 01J9Z3K8M4N5P6Q7R8S9T0V1W2
title: API Notes
created_at: "2026-10-17T06:00:00.123456789Z"
updated_at: "2026-10-17T06:00:00.123456789Z"
tags: []
---
Use bearer tokens for the #auth endpoints.
` + "```" + `

## Rules

1. **Memos are written through the tools.** ` + "`" + `create_memo` + "`" + ` assigns the id and
   timestamps; ` + "`" + `update_memo` + "`" + ` replaces the content only. Title and id never change.
2. **The header is optional when reading.** Files without one take their id from
   the file name, their title from the file name stem and their timestamps from the
   id and the file modification time.
3. **Tags** come from the ` + "`" + `tags` + "`" + ` header list and from inline ` + "`" + `#tags` + "`" + ` in the body.
4. **Encoding** is UTF-8. Content is at most 1 MiB; titles are 1 to 255 characters.
5. **Deletion is final.** A deleted id is never served again, even if the file is
   restored.

## Search syntax

- Bare terms must all match: ` + "`" + `bearer tokens` + "`" + `
- Phrases match adjacent words: ` + "`" + `"bearer tokens"` + "`" + `
- ` + "`" + `AND` + "`" + `, ` + "`" + `OR` + "`" + `, ` + "`" + `NOT` + "`" + ` (upper case) are applied left to right; use parentheses to group.
- ` + "`" + `auth*` + "`" + `, ` + "`" + `*auth` + "`" + ` and ` + "`" + `*auth*` + "`" + ` match prefixes, suffixes and infixes.
- Matching is case-insensitive. Title matches rank above content matches.
`
