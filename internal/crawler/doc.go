// Package crawler mirrors a website through a headless browser. It walks
// same-site pages breadth first, captures every sub-resource the browser
// loads, rewrites references to archived copies, and persists the result
// under a timestamped archive prefix.
package crawler
