// Package security provides input validation and resource limits.
//
// Every producer entry point validates names, ids, options and payload size
// here before the store is touched, so a rejected call never leaves a
// partial write behind.
package security
