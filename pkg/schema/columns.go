// Package schema holds the static mapping from the plant's raw PLC tag names
// to canonical storage fields, and resolves it against a file header.
package schema

// Kind is the storage type of a canonical field.
type Kind int

const (
	Numeric Kind = iota
	Flag
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Flag:
		return "flag"
	default:
		return "unknown"
	}
}

// Group is the plant subsystem a field belongs to.
type Group string

const (
	GroupGas        Group = "gas"
	GroupCompressor Group = "compressor"
	GroupBlower     Group = "blower"
	GroupSafety     Group = "safety"
	GroupEnergy     Group = "energy"
)

// Field describes one canonical sensor field.
type Field struct {
	Canonical string
	Source    string
	Kind      Kind
	Group     Group
}

// TimestampColumn is the only column every input file must carry.
const TimestampColumn = "timestamp"

// Canonical field names referenced by derived metrics and aggregates.
const (
	CH4Percent            = "ch4_percent"
	CO2Percent            = "co2_percent"
	GasFlow               = "gas_flow"
	CompDischargePressure = "comp_discharge_pressure"
	CompDischargeTemp     = "comp_discharge_temp"
	CompSuctionPressure   = "comp_suction_pressure"
	CompSuctionTemp       = "comp_suction_temp"
	CompMotorAmps         = "comp_motor_amps"
	CompRunning           = "comp_running"
	CompFault             = "comp_fault"
	BlowerFault           = "blower_fault"
	DailyEnergy           = "daily_energy"
)

// Fields is the column map, in storage order.
var Fields = []Field{
	// Gas composition (ABB gas chromatograph)
	{CH4Percent, "bop_plc_abb_gc_outletstream_ch4", Numeric, GroupGas},
	{CO2Percent, "bop_plc_abb_gc_outletstream_co2", Numeric, GroupGas},
	{"n2_percent", "bop_plc_abb_gc_outletstream_n2", Numeric, GroupGas},
	{"o2_percent", "bop_plc_abb_gc_outletstream_o2", Numeric, GroupGas},
	{"h2s_ppm", "bop_plc_abb_gc_outletstream_h2s", Numeric, GroupGas},
	{GasFlow, "bop_plc_abb_gc_outletstream_flow", Numeric, GroupGas},
	{"gas_pressure", "bop_plc_abb_gc_outletstream_pressure", Numeric, GroupGas},
	{"gas_temp", "bop_plc_abb_gc_outletstream_temp", Numeric, GroupGas},

	// Compressor
	{CompDischargePressure, "bop_plc_vl_comp_discharge_pressure", Numeric, GroupCompressor},
	{CompDischargeTemp, "bop_plc_vl_comp_discharge_temp", Numeric, GroupCompressor},
	{CompSuctionPressure, "bop_plc_vl_comp_suction_pressure", Numeric, GroupCompressor},
	{CompSuctionTemp, "bop_plc_vl_comp_suction_temp", Numeric, GroupCompressor},
	{CompMotorAmps, "bop_plc_vl_comp_mainmotor_amps", Numeric, GroupCompressor},
	{"comp_motor_speed", "bop_plc_vl_comp_mainmotor_speed_cmd", Numeric, GroupCompressor},
	{"comp_oil_temp", "bop_plc_vl_comp_oilinjection_temp", Numeric, GroupCompressor},
	{"comp_oil_pressure", "bop_plc_vl_comp_netoildiff_pressure", Numeric, GroupCompressor},
	{"comp_filter_diff_pressure", "bop_plc_vl_comp_oilfilterdiff_pressure", Numeric, GroupCompressor},
	{CompRunning, "bop_plc_vl_comp_runstatus", Flag, GroupCompressor},
	{CompFault, "bop_plc_vl_comp_faultstatus", Flag, GroupCompressor},

	// Blower
	{"blower_discharge_pressure", "bop_plc_bge_blowerdischarge_pressure", Numeric, GroupBlower},
	{"blower_suction_pressure", "bop_plc_bge_blowersuction_pressure", Numeric, GroupBlower},
	{"blower_suction_temp", "bop_plc_bge_blowersuction_temp", Numeric, GroupBlower},
	{"blower_vfd_speed", "bop_plc_bge_blowervfd_speed", Numeric, GroupBlower},
	{"blower_running", "bop_plc_bge_blowervfd_runstatus", Flag, GroupBlower},
	{BlowerFault, "bop_plc_bge_blowervfd_faultstatus", Flag, GroupBlower},

	// Safety
	{"estop_1", "bop_plc_in_hs901_estop", Flag, GroupSafety},
	{"estop_2", "bop_plc_in_hs902_estop", Flag, GroupSafety},
	{"estop_3", "bop_plc_in_hs903_estop", Flag, GroupSafety},
	{"system_abort", "bop_plc_system_abort_0", Flag, GroupSafety},

	// Energy
	{DailyEnergy, "bop_plc_inr_fc_todayenergy_real", Numeric, GroupEnergy},
	{"accumulated_volume", "bop_plc_inr_fc_accvolume_real", Numeric, GroupEnergy},
}

// FaultFields are the flags counted by the health score. Confirm this list
// with plant operations before adding fields; it is not derived from names.
var FaultFields = []string{CompFault, BlowerFault}

var (
	bySource    = make(map[string]int, len(Fields))
	byCanonical = make(map[string]int, len(Fields))
)

func init() {
	for i, f := range Fields {
		bySource[f.Source] = i
		byCanonical[f.Canonical] = i
	}
}

// LookupSource returns the canonical field for a raw column name.
func LookupSource(source string) (Field, bool) {
	i, ok := bySource[source]
	if !ok {
		return Field{}, false
	}
	return Fields[i], true
}

// Lookup returns the field with the given canonical name.
func Lookup(canonical string) (Field, bool) {
	i, ok := byCanonical[canonical]
	if !ok {
		return Field{}, false
	}
	return Fields[i], true
}

// IsFlag reports whether the canonical field stores a boolean.
func IsFlag(canonical string) bool {
	f, ok := Lookup(canonical)
	return ok && f.Kind == Flag
}
