// Package linelog defines the file format used to store captured debug output lines.
//
// # Overview
//
// Goals:
//
//  1. Keep the process attribution of every line
//  2. Preserve wall clock and elapsed time of capture
//  3. Survive arbitrary bytes in process names and text
//  4. Be readable with less(1) for plain text lines
//
// # Record Format
//
// Each record follows this format:
//
//	pid "process" timestamp elapsed length: text
//
// A separator \n is always added after text.
//
// # Fields
//
//   - pid: Decimal process id of the writer.
//   - process: Go-quoted process name. Empty when the name could not be
//     resolved, "<flush>" for lines flushed after their process went quiet.
//   - timestamp: UTC timestamp: 2006-01-02T15:04:05.000000000Z
//   - elapsed: Time since capture started, as printed by time.Duration.
//   - length: Integer byte length of text.
//   - `: ` Literal separator between length and text
//   - text: Exactly length bytes.
//
// # Examples
//
//	4242 "app.exe" 2025-01-07T12:34:56.789000000Z 1.5s 11: hello world\n
//	4242 "<flush>" 2025-01-07T12:35:12.000000000Z 17.2s 7: partial\n
//	17 "" 2025-01-07T12:35:13.000000000Z 18s 0: \n
package linelog
