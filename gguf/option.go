package gguf

import "net/url"

type readOptions struct {
	Debug bool

	// Local.
	MMap bool

	// Remote.
	ProxyURL            *url.URL
	SkipProxy           bool
	SkipTLSVerification bool
	SkipDNSCache        bool
	BufferSize          int
}

// ReadOption configures Open/OpenRemote, following the teacher's
// functional-options pattern (file_option.go).
type ReadOption func(o *readOptions)

// UseDebug turns on request/response logging for remote reads.
func UseDebug() ReadOption {
	return func(o *readOptions) { o.Debug = true }
}

// UseMMap reads the local file through a memory-mapped view rather than a
// stream, see internal/util/osx.OpenMmapFile.
func UseMMap() ReadOption {
	return func(o *readOptions) { o.MMap = true }
}

// UseProxy routes remote reads through the given proxy URL.
func UseProxy(u *url.URL) ReadOption {
	return func(o *readOptions) { o.ProxyURL = u }
}

// SkipProxy disables any environment-inherited proxy for remote reads.
func SkipProxy() ReadOption {
	return func(o *readOptions) { o.SkipProxy = true }
}

// SkipTLSVerification disables certificate verification for remote reads.
func SkipTLSVerification() ReadOption {
	return func(o *readOptions) { o.SkipTLSVerification = true }
}

// SkipDNSCache disables the shared DNS cache for remote reads.
func SkipDNSCache() ReadOption {
	return func(o *readOptions) { o.SkipDNSCache = true }
}

// UseBufferSize sets the range-read buffer size for remote reads.
func UseBufferSize(size int) ReadOption {
	const minSize = 32 * 1024
	if size < minSize {
		size = minSize
	}
	return func(o *readOptions) { o.BufferSize = size }
}
