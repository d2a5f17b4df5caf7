// Package check contains the validation levels and the decision logic of
// emailprobe: syntax validation, MX resolution, domain classification, the
// SMTP retry coordinator and the final aggregation into a Reachability.
// Each level also implements Check(ctx, email) types.CheckResult.
// These types can be used directly, but the recommended approach is
// to use the fluent builder API from the github.com/optimode/emailprobe package.
package check
