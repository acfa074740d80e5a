// Package webhook implements secure HTTP webhook endpoints with HMAC-SHA256
// verification. Verified deliveries are converted directly into work items
// on a configured bucket.
//
// # Security Model
//
//   - HMAC-SHA256 signatures verified using crypto/subtle (constant-time
//     comparison)
//   - Body size limits enforced per endpoint
//   - No signature details leaked in error responses (always generic 403)
//   - Request logging excludes payload bodies
//
// # Request Flow
//
//  1. HTTP POST arrives at a configured path
//  2. Body size checked (reject with 413 if too large)
//  3. Signature header extracted and verified against the endpoint secret
//  4. Body is parsed as JSON and added as a work item to the endpoint's bucket
//  5. 202 Accepted returned with the generated work identifier
package webhook
