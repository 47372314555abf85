// Package feedback holds the Submission record and the pure request
// pipeline that turns a raw client payload into one: validation,
// sanitization, allow-listing, and id/timestamp assignment.
package feedback
