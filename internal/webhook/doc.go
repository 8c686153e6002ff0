// Package webhook implements the inbound Todoist webhook endpoint: HMAC
// signature verification over the raw body, retry de-duplication, and
// dispatch of comment trigger phrases and task completions.
//
// # Security Model
//
//   - Signatures are base64(HMAC-SHA256(secret, raw body)), verified with
//     crypto/subtle constant-time comparison before any JSON parsing
//   - Body size limits enforced
//   - No signature details leaked in error responses (generic 401)
//   - Request logging excludes payload bodies
//
// # Request Flow
//
//  1. HTTP POST arrives at the configured path
//  2. Raw body read (reject with 413 if too large)
//  3. Signature verified (reject with 401 on mismatch or absence)
//  4. Delivery ID checked against the de-dupe set
//  5. Payload parsed and routed: completions, comment triggers, or ignored
//  6. 200 returned for every verified delivery, including ignored and
//     malformed ones, so the provider does not retry expected no-ops
package webhook
