package bootinfo

// Byte offsets of every BootInfo field. The layout keeps 64-bit fields on
// 8-byte boundaries with explicit padding; the kernel parses this exact
// image on entry.
const (
	infoMagicOffset       = 0
	infoVersionOffset     = 4
	infoSizeOffset        = 8
	infoKernelCRCOffset   = 12
	infoKernelBaseOffset  = 16
	infoKernelSizeOffset  = 24
	infoMemLowerOffset    = 32
	infoMemUpperOffset    = 40
	infoBootDeviceOffset  = 48
	infoPad0Offset        = 52
	infoCmdlinePtrOffset  = 56
	infoModsCountOffset   = 64
	infoPad1Offset        = 68
	infoModsPtrOffset     = 72
	infoMapPtrOffset      = 80
	infoMapCountOffset    = 88
	infoPad2Offset        = 92

	mapEntryBaseOffset   = 0
	mapEntryLengthOffset = 8
	mapEntryTypeOffset   = 16

	moduleStartOffset   = 0
	moduleEndOffset     = 8
	moduleNamePtrOffset = 16
)
