package packstream

// Marker bytes, per Bolt PackStream v1 (§4.1). The leading nibble selects a
// tiny inline form where one exists; otherwise the full byte selects a sized
// form carrying an explicit length.
const (
	markerNull  byte = 0xC0
	markerFalse byte = 0xC2
	markerTrue  byte = 0xC3
	markerFloat byte = 0xC1

	markerInt8  byte = 0xC8
	markerInt16 byte = 0xC9
	markerInt32 byte = 0xCA
	markerInt64 byte = 0xCB

	markerBytes8  byte = 0xCC
	markerBytes16 byte = 0xCD
	markerBytes32 byte = 0xCE

	markerString8  byte = 0xD0
	markerString16 byte = 0xD1
	markerString32 byte = 0xD2

	markerList8  byte = 0xD4
	markerList16 byte = 0xD5
	markerList32 byte = 0xD6

	markerMap8  byte = 0xD8
	markerMap16 byte = 0xD9
	markerMap32 byte = 0xDA

	markerStruct8  byte = 0xDC
	markerStruct16 byte = 0xDD

	tinyStringBase    byte = 0x80
	tinyListBase      byte = 0x90
	tinyMapBase       byte = 0xA0
	tinyStructBase    byte = 0xB0
	tinyContainerMask byte = 0x0F

	tinyIntPositiveMax = 127 // inclusive
	tinyIntNegativeMin = -16 // inclusive
)

const (
	maxTinyContainer = 15
	max8Bit          = 1<<8 - 1
	max16Bit         = 1<<16 - 1
	max32Bit         = 1<<32 - 1
)
