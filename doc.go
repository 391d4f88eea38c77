// Package mspi drives external memories (NOR/NAND flash, PSRAM) behind a
// multi-bit SPI controller: command framing, program/erase with status
// polling, and the SDR timing scan that picks delay-line settings for
// high-speed operation.
//
// The controller itself is reached through the [Transport] interface. The
// package ships a periph.io backed transport for FTDI MPSSE adapters, a
// tinygo.org/x/drivers backed one for microcontrollers, and the sim package
// provides an in-memory controller for tests.
//
// # References:
//
// FTDI (https://ftdichip.com/document/application-notes/)
//   - [FTDI-AN_108]: Command Processor for MPSSE and MCU Host Bus Emulation Modes (https://ftdichip.com/wp-content/uploads/2020/08/AN_108_Command_Processor_for_MPSSE_and_MCU_Host_Bus_Emulation_Modes.pdf)
//   - [FTDI-AN_114]: Interfacing FT2232H Hi-Speed Devices To SPI Bus (https://ftdichip.com/wp-content/uploads/2020/08/AN_114_FTDI_Hi_Speed_USB_To_SPI_Example.pdf)
//   - [FTDI-AN_135]: FTDI MPSSE Basics (https://ftdichip.com/wp-content/uploads/2020/08/AN_135_MPSSE_Basics.pdf)
//
// SPI NOR Flash
//   - [N25Q32]: N25Q032A Micron Serial NOR Flash Memory datasheet
//   - [N25Q256]: N25Q256A Micron Serial NOR Flash Memory datasheet
//   - [W25Q128]: W25Q128JV-DTR Winbond Serial Flash Memory (https://www.winbond.com/resource-files/W25Q128JV_DTR%20RevD%2012232024%20Plus.pdf)
//   - [MX25UM]: MX25UM51245G Macronix OctaFlash datasheet
//
// SPI NAND Flash
//   - [W25N02]: W25N02KW Winbond SpiFlash NAND datasheet
//   - [DS35X1]: DS35X1GA Dosilicon SPI NAND datasheet
//
// PSRAM
//   - [APS6408]: APS6408L APMemory Octal DDR PSRAM datasheet
package mspi
