// Package process implements the command runner that launches one instance of
// a shell command line and waits for it to exit.
//
// On POSIX systems every child is started in its own process group so that a
// cancelled run can signal the shell together with anything it spawned:
// SIGTERM first, then SIGKILL once the stop timeout elapses. On Windows only
// the direct child is killed; grandchildren may survive and must be cleaned up
// by the caller.
package process
