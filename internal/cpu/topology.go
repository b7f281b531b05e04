package cpu

import "github.com/CristiGvl/picoTelemetry/internal/tuples"

// evenTopology spreads logical processors evenly over cores when the platform
// only reports counts. Physical processors are reported only when cores > 0.
func evenTopology(logicalCount, coreCount, packageCount int, caches []ProcessorCache) Topology {
	if logicalCount < 1 {
		logicalCount = 1
	}
	if packageCount < 1 {
		packageCount = 1
	}
	known := coreCount > 0
	if !known || coreCount > logicalCount {
		coreCount = logicalCount
	}
	packageCount = min(packageCount, coreCount)
	perCore := logicalCount / coreCount
	if perCore < 1 {
		perCore = 1
	}
	coresPerPackage := coreCount / packageCount
	if coresPerPackage < 1 {
		coresPerPackage = 1
	}

	logical := make([]LogicalProcessor, logicalCount)
	for i := range logical {
		core := min(i/perCore, coreCount-1)
		logical[i] = LogicalProcessor{
			ProcessorNumber:         i,
			PhysicalProcessorNumber: core,
			PhysicalPackageNumber:   min(core/coresPerPackage, packageCount-1),
		}
	}

	var physical []PhysicalProcessor
	if known {
		physical = make([]PhysicalProcessor, coreCount)
		for i := range physical {
			physical[i] = PhysicalProcessor{
				PhysicalPackageNumber:   min(i/coresPerPackage, packageCount-1),
				PhysicalProcessorNumber: i,
			}
		}
	}
	return tuples.NewTriplet(logical, physical, caches)
}
