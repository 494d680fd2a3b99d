package telemetry

// Shape says which payload fields a sensor kind legitimately carries.
type Shape int

const (
	ShapePoint Shape = iota
	ShapeRange
	ShapeAggregate
)

func (s Shape) String() string {
	switch s {
	case ShapeRange:
		return "range"
	case ShapeAggregate:
		return "aggregate"
	default:
		return "point"
	}
}

type KindInfo struct {
	Kind       string
	SensorType int
	SensorCode string
	Shape      Shape
}

var kinds = map[string]KindInfo{
	"pressure":    {Kind: "pressure", SensorType: 1, SensorCode: "PI", Shape: ShapeRange},
	"temperature": {Kind: "temperature", SensorType: 2, SensorCode: "TI", Shape: ShapePoint},
	"battery":     {Kind: "battery", SensorType: 4, SensorCode: "EI", Shape: ShapePoint},
	"vibration":   {Kind: "vibration", SensorType: 8, SensorCode: "VI", Shape: ShapeAggregate},
	"humidity":    {Kind: "humidity", SensorType: 9, SensorCode: "CI", Shape: ShapePoint},
	"rssi":        {Kind: "rssi", SensorType: 10, SensorCode: "MI", Shape: ShapeRange},
	"aggregate":   {Kind: "aggregate", SensorType: 11, SensorCode: "OI", Shape: ShapeAggregate},
}

func LookupKind(kind string) (KindInfo, bool) {
	k, ok := kinds[kind]
	return k, ok
}
