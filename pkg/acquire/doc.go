// Package acquire makes sure every image referenced by a dataset exists locally.
//
// Missing images are fetched by a bounded pool of workers built on the pipeline engine. Every fetch
// is rate limited, retried with an exponential backoff and verified before it is moved into place.
// Results are aggregated by a single sink into the dataset manifest, which is then saved once.
package acquire
