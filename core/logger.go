package core

// Logger is any logging service.
// args may hold errors, extra data maps and the user.User acting when the entry was logged.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
