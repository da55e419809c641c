// Package logging provides file-based logging with rotation for zoterag.
// Logs are written as JSON lines to ~/.zoterag/logs/ and can be tailed
// and filtered with the zoterag-logs companion command.
//
// When serving MCP over stdio, logging must never touch stdout or stderr;
// use SetupStdioMode in that path.
package logging
