//go:build linux && cgo

package fpguard

/*
#cgo LDFLAGS: -lm
#define _GNU_SOURCE
#include <fenv.h>

static int nnfoam_all_except(void) { return FE_ALL_EXCEPT; }
static int nnfoam_divbyzero(void) { return FE_DIVBYZERO; }
*/
import "C"

var (
	allExcept       = int(C.nnfoam_all_except())
	divByZeroExcept = int(C.nnfoam_divbyzero())
)

func getExcept() int {
	return int(C.fegetexcept())
}

func clearExcept() {
	C.feclearexcept(C.int(allExcept))
}

func disableExcept(mask int) {
	C.fedisableexcept(C.int(mask))
}

func enableExcept(mask int) {
	C.feenableexcept(C.int(mask))
}
