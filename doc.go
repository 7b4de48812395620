// Package batteries wires telemetry backends into a single session handle.
//
// # Overview
//
// Applications construct a Session once at startup, attach context tags and
// one or more batteries (Sentry, OpenTelemetry, Medama), emit telemetry
// through the standard OpenTelemetry and zap surfaces, and call Shutdown once
// at exit to flush and close every backend. The package tracks the upstream
// telemetry ecosystem so dependents don't have to: it contains no collection,
// propagation, or transport logic of its own, only the glue that configures
// the third-party SDKs consistently.
//
// # Usage
//
//	session := batteries.New("my-service", "1.4.2").
//	    WithContext("environment", "production").
//	    WithBattery(batteries.NewSentry(dsn)).
//	    WithBattery(batteries.NewOpenTelemetry("localhost:4317").
//	        WithProtocol(batteries.ProtocolGRPC).
//	        WithHeader("x-api-key", apiKey))
//
//	logger := session.Logger()
//	tracer := session.Tracer("my-service.api")
//
//	defer session.Shutdown(context.Background())
//
// # Error Handling
//
// Telemetry failures never crash the host application. Battery setup errors
// are recorded on the session (see Session.Err) and the session degrades to
// whatever backends did come up. Export failures during steady state are
// handled by the underlying SDKs. Shutdown flush failures are returned so
// callers can log them, but the process should exit regardless.
package batteries
