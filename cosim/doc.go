// Package cosim provides the fixed-step co-simulation driver for dss-cosim.
//
// # Reading Guide
//
// Start with these files to understand the driver:
//   - schedule.go: the discretized timeline shared by every federate
//   - source.go: the setpoint producer loop (ratings × profile → publish)
//   - grid.go: the consumer loop (poll → apply → solve → record)
//   - recorder.go: per-step telemetry accumulation into in-memory tables
//
// # Architecture
//
// The cosim package defines interfaces and data types; implementations live in
// sub-packages:
//   - cosim/broker/: in-process conservative time coordination (Core, LocalFederate)
//   - cosim/natsbus/: the same coordination exposed over NATS request/reply
//   - cosim/dss/: OpenDSS solver binding (build tag altdss)
//   - cosim/results/: result sinks (CSV directory, PostgreSQL, MongoDB)
//   - cosim/trace/: per-step coordination trace records
//
// The dss sub-package registers its solver constructor via init(), setting the
// package-level factory variable NewSolverFunc.
//
// # Key Interfaces
//
//   - Federate: a session with the time-coordination service
//   - Solver: a circuit power-flow session
//   - Sink: durable storage for a finished run's tables
package cosim
