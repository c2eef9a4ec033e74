// Package memory keeps the process inside its container memory budget.
//
// [Configure] derives GOMEMLIMIT from MEMORY_LIMIT and MEMORY_RATIO so the Go
// heap leaves room for ffmpeg, ffprobe and libvips, which allocate outside
// it. An explicit GOMEMLIMIT environment variable always wins.
//
// A [Monitor] samples memory use (by default the Go heap; nasweb adds the
// resident size of supervised processes) and, above the critical watermark,
// makes [Monitor.Wait] block new thumbnails and transcodes until use falls
// under the high watermark again. Work that already started keeps running.
//
// Kubernetes can pass the limit through the Downward API:
//
//	env:
//	  - name: NASWEB_MEMORY_LIMIT
//	    valueFrom:
//	      resourceFieldRef:
//	        resource: limits.memory
package memory
