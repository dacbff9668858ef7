package chipid

// STM32 product IDs as reported by GET_ID (DBGMCU_IDCODE DEV_ID).
func init() {
	register("STM32F0", "Cortex-M0", map[uint16]string{
		0x440: "STM32F05x",
		0x444: "STM32F03x",
		0x442: "STM32F09x",
		0x448: "STM32F07x",
	})

	register("STM32F1", "Cortex-M3", map[uint16]string{
		0x410: "STM32F10x (Medium-density)",
		0x412: "STM32F10x (Low-density)",
		0x414: "STM32F10x (High-density)",
		0x418: "STM32F105/107",
		0x420: "STM32F100 (Medium-density value line)",
		0x428: "STM32F100 (High-density value line)",
		0x430: "STM32F10x (XL-density)",
	})

	register("STM32F2", "Cortex-M3", map[uint16]string{
		0x411: "STM32F2xx",
	})

	register("STM32F3", "Cortex-M4", map[uint16]string{
		0x422: "STM32F30x/31x",
		0x438: "STM32F33x",
	})

	register("STM32F4", "Cortex-M4", map[uint16]string{
		0x413: "STM32F40x/41x",
		0x419: "STM32F42x/43x",
	})

	register("STM32F7", "Cortex-M7", map[uint16]string{
		0x449: "STM32F74x/75x",
		0x451: "STM32F76x/77x",
	})

	register("STM32H7", "Cortex-M7", map[uint16]string{
		0x450: "STM32H74x/75x",
	})

	register("STM32L4", "Cortex-M4", map[uint16]string{
		0x415: "STM32L47x/48x",
		0x435: "STM32L43x/44x",
	})

	register("STM32G0", "Cortex-M0+", map[uint16]string{
		0x460: "STM32G07x/08x",
	})

	register("STM32G4", "Cortex-M4", map[uint16]string{
		0x468: "STM32G43x/44x",
	})
}
