// Package dbwin captures the debug output that processes write through the
// DBWIN channel and turns it into attributed lines.
//
// # Channel
//
// The channel is a single-slot rendezvous: a 4096 byte shared buffer holding
// the writer's PID followed by a NUL-terminated message, and two signals.
//
//	producer                          reader
//	--------                          ------
//	wait DBWIN_BUFFER_READY
//	write PID + message
//	set DBWIN_DATA_READY  ----------> wake from Wait (DataAvailable)
//	                                  copy record
//	      <-------------------------- set DBWIN_BUFFER_READY (ReadyToReceive)
//
// There is no queue. A producer that writes before the reader re-armed
// DBWIN_BUFFER_READY loses its message, so the reader re-arms right after
// copying the record and does everything else afterwards.
//
// On Windows the channel is the native DBWIN_BUFFER file mapping and event
// pair used by OutputDebugString. On Unix hosts the same protocol runs over a
// mapped file and two FIFOs in a directory (see ChannelDir).
//
// # Lines
//
// A message is not a line. Processes write partial lines and several lines
// per message, so the Reassembler keeps one partial line per PID:
//
//   - '\r' is dropped, '\n' ends a line.
//   - A partial line is emitted as is once it would grow past the length
//     bound (8192 bytes).
//   - With auto-newline set, every message ends a line.
//
// The HandleCache keeps the handle of every active process for 15 seconds
// after its last message. When it evicts a process that still has a partial
// line, the FlushCoordinator emits that line with the process name "<flush>".
// The check also runs when no message arrived for a whole handle timeout.
//
// # Concurrency
//
// Each Reader runs one goroutine that is parked in Channel.Wait between
// messages, waking up at least once per handle timeout. The cache, reassembler and flush coordinator belong to that
// goroutine. Finished lines are appended to a mutex-protected batch that a
// consumer drains with Reader.Lines or Reader.Pump.
package dbwin
