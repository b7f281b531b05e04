package cpu

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// UnknownVendor is reported when the vendor could not be determined.
const UnknownVendor = "unknown"

// ProcessorIdentifier identifies the processor model. It is read once when
// the CentralProcessor is built.
type ProcessorIdentifier struct {
	Vendor      string `json:"vendor"`
	Name        string `json:"name"`
	Family      string `json:"family"`
	Model       string `json:"model"`
	Stepping    string `json:"stepping"`
	ProcessorID string `json:"processor_id"`
	CPU64Bit    bool   `json:"cpu_64bit"`
	// VendorFreq is the nominal frequency in Hz, or Unknown.
	VendorFreq int64 `json:"vendor_freq"`
}

// UnknownIdentifier is used when the driver cannot identify the processor.
func UnknownIdentifier() ProcessorIdentifier {
	return ProcessorIdentifier{
		Vendor:     UnknownVendor,
		VendorFreq: Unknown,
	}
}

// Identifier returns the family/model/stepping string in the form Windows
// reports it, for example "Intel64 Family 6 Model 158 Stepping 10".
func (p ProcessorIdentifier) Identifier() string {
	var sb strings.Builder
	switch {
	case strings.HasPrefix(p.Vendor, "GenuineIntel"):
		if p.CPU64Bit {
			sb.WriteString("Intel64")
		} else {
			sb.WriteString("x86")
		}
	case strings.HasPrefix(p.Vendor, "AuthenticAMD"):
		if p.CPU64Bit {
			sb.WriteString("AMD64")
		} else {
			sb.WriteString("x86")
		}
	default:
		sb.WriteString(p.Vendor)
	}
	if p.Family != "" {
		sb.WriteString(" Family ")
		sb.WriteString(p.Family)
	}
	if p.Model != "" {
		sb.WriteString(" Model ")
		sb.WriteString(p.Model)
	}
	if p.Stepping != "" {
		sb.WriteString(" Stepping ")
		sb.WriteString(p.Stepping)
	}
	return sb.String()
}

func (p ProcessorIdentifier) String() string {
	return fmt.Sprintf("%s (%s)", p.Name, p.Identifier())
}

// microArchitectures maps "vendor,family,model" to a code name. Entries
// keyed without a model match every model of the family.
var microArchitectures = map[string]string{
	"GenuineIntel,6,60":   "Haswell",
	"GenuineIntel,6,61":   "Broadwell",
	"GenuineIntel,6,78":   "Skylake",
	"GenuineIntel,6,85":   "Skylake-SP",
	"GenuineIntel,6,94":   "Skylake",
	"GenuineIntel,6,142":  "Kaby Lake",
	"GenuineIntel,6,158":  "Coffee Lake",
	"GenuineIntel,6,165":  "Comet Lake",
	"GenuineIntel,6,140":  "Tiger Lake",
	"GenuineIntel,6,151":  "Alder Lake",
	"GenuineIntel,6,183":  "Raptor Lake",
	"AuthenticAMD,23,1":   "Zen",
	"AuthenticAMD,23,8":   "Zen+",
	"AuthenticAMD,23,49":  "Zen 2",
	"AuthenticAMD,23,113": "Zen 2",
	"AuthenticAMD,25,33":  "Zen 3",
	"AuthenticAMD,25,97":  "Zen 4",
	"AuthenticAMD,21":     "Bulldozer",
	"AuthenticAMD,22":     "Jaguar",
}

// MicroArchitecture returns the code name of the processor design, or
// UnknownVendor when the family and model are not recognised.
func (p ProcessorIdentifier) MicroArchitecture() string {
	key := p.Vendor + "," + p.Family
	if name, ok := microArchitectures[key+","+p.Model]; ok {
		return name
	}
	if name, ok := microArchitectures[key]; ok {
		return name
	}
	return UnknownVendor
}

var hertzPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([kKMGT]?)[hH][zZ]`)

var hertzMultipliers = map[string]float64{
	"":  1,
	"k": 1e3,
	"K": 1e3,
	"M": 1e6,
	"G": 1e9,
	"T": 1e12,
}

// parseHertz extracts a frequency such as "3.60GHz" from s. It returns
// Unknown when s holds no frequency.
func parseHertz(s string) int64 {
	m := hertzPattern.FindStringSubmatch(s)
	if m == nil {
		return Unknown
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v <= 0 {
		return Unknown
	}
	return int64(v * hertzMultipliers[m[2]])
}
