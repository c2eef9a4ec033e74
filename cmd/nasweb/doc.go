// Command nasweb runs the media processing core of the NAS web frontend.
//
// Usage:
//
//	nasweb serve                      run the live janitor and the metrics endpoint
//	nasweb probe FILE                 list the streams of a media file
//	nasweb thumbnail FILE -o out.png  render a thumbnail
//	nasweb transcode FILE DIR         export FILE to DIR/<name>.mp4
//	nasweb live FILE                  start an HLS session and wait for Ctrl+C
//
// Every command reads configuration from nasweb.yaml and NASWEB_*
// environment variables; see package startup for the keys.
package main
