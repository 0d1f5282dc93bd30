// Package logging sets up the logrus logger shared by both binaries.
package logging
