// Package daemon detaches prockeeper from its controlling terminal and
// prepares the per-session working area.
//
// Entry is atomic: the session directory, the redirected streams, the pid file
// and the detached child either all come into existence or none of them do,
// and any failure is returned to the caller while its terminal is still
// attached.
//
// Go cannot fork a running runtime, so the POSIX Daemonizer re-executes the
// current binary in a new session with the dropped credentials. The parent
// writes the pid file and then releases the child over a pipe inherited as
// file descriptor 3; the child applies its umask and blocks in Release until
// that happens. The child answers on file descriptor 4, either with an
// acknowledgement once it is about to supervise or with the error that stops
// it (ReportFailure). The parent reports success only after the
// acknowledgement; EOF, a failure line or a timeout kill the child and roll
// entry back. On Windows the Daemonizer fails with ErrUnsupported.
package daemon
