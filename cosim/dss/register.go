// register.go wires the OpenDSS-backed solver into the cosim package's
// registration variable (NewSolverFunc). This init() runs when any package
// imports cosim/dss, breaking the import cycle between cosim/ (interface
// owner) and cosim/dss/ (implementation).
package dss

import "github.com/NREL/dss-cosim/cosim"

func init() {
	cosim.NewSolverFunc = New
}
