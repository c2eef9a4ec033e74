// Package filesystem wraps os.Stat and os.Open with bounded exponential
// backoff for ESTALE, the error NFS clients report after the server
// re-exported a share. Any other error is returned immediately.
//
//	info, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())
//
// Retries and final failures are counted in the nasweb_filesystem_retry_*
// metrics by operation.
package filesystem
