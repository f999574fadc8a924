package ur20

// Register layout of the UR20-FBC-MOD-TCP coupler.
const (
	AddrPackedProcessInputData  uint16 = 0x0000
	AddrPackedProcessOutputData uint16 = 0x0800

	AddrCouplerID        uint16 = 0x1000
	CouplerIDRegisters   uint16 = 7
	AddrProcessOutputLen uint16 = 0x1010
	AddrProcessInputLen  uint16 = 0x1011

	AddrCurrentModuleCount uint16 = 0x27FE
	AddrCurrentModuleList  uint16 = 0x2A00
	AddrModuleOffsets      uint16 = 0x2B00

	AddrModuleParameters uint16 = 0xC000
	// ParameterStride is the register distance between two module parameter slots.
	ParameterStride uint16 = 0x0100
)

// NoOffset marks a module without data in that direction of the process image.
const NoOffset uint16 = 0xFFFF
