// Standalone build of the built-in solver, served over the plugin
// protocol. Point fit.plugin at it to run fits out of process.
package main

import (
	"github.com/gxps/pkg/solver"
)

func main() {
	solver.Serve(solver.NewLevenbergMarquardt(200, 1e-10))
}
