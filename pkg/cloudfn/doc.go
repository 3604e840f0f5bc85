// Package cloudfn is the shared runtime for the cloud-functions event handlers.
//
// # Overview
//
// Every handler in this module is a Function registered in a Registry under a
// FunctionName. A function package registers a Definition from its init()
// function; the Definition carries a FunctionFactory that builds the function
// from shared Dependencies (configuration, logger, AWS configuration and an
// Invoker) the first time it is needed.
//
// # Running functions
//
// The Runtime resolves a function, decorates the context with an invocation
// logger and runs it:
//
//	rt := cloudfn.NewRuntime(cloudfn.WithDependencies(deps), cloudfn.WithLogger(logger))
//	out, err := rt.Run(ctx, cloudfn.FunctionStackSweeper, payload)
//
// Runtime also implements Invoker, so a function can dispatch another
// function fire-and-forget without a Lambda round trip when running locally:
//
//	_, err := invoker.Invoke(ctx, "capture-card-payment", order, cloudfn.InvocationEvent)
//
// # Rules
//
// Predicates such as "is this stack expired" or "is this restaurant accepted"
// are expressed as Rule values and evaluated with RunRules, which returns a
// Report listing every check.
//
// # Records
//
// Janitor tracking records live in a RecordStore. MemoryRecordStore and
// FileRecordStore are provided here; the DynamoDB-backed store lives in the
// aws provider package.
//
// # Errors
//
// Handlers return *FunctionError values with an ErrorCategory. HTTPStatus
// maps categories to API Gateway status codes.
package cloudfn
