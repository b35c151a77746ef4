package connect

import "scantool/internal/transport"

// demoExchanges is a canned adapter session: a CAN vehicle with the
// MIL on, two stored misfire/catalyst codes and one permanent code.
// The replay transport serves the last response of each command
// forever, so polling keeps working.
var demoExchanges = []transport.Exchange{
	{Command: "ATZ", Response: "\r\rELM327 v1.5\r\r>"},
	{Command: "ATI", Response: "ELM327 v1.5\r\r>"},
	{Command: "AT@1", Response: "OBDII to RS232 Interpreter\r\r>"},
	{Command: "ATRV", Response: "12.6V\r\r>"},
	{Command: "ATE0", Response: "OK\r\r>"},
	{Command: "ATL0", Response: "OK\r\r>"},
	{Command: "ATS0", Response: "OK\r\r>"},
	{Command: "ATM0", Response: "OK\r\r>"},
	{Command: "ATH1", Response: "OK\r\r>"},
	{Command: "ATST96", Response: "OK\r\r>"},
	{Command: "ATSP0", Response: "OK\r\r>"},
	{Command: "ATDP", Response: "AUTO, ISO 15765-4 (CAN 11/500)\r\r>"},
	{Command: "ATPC", Response: "OK\r\r>"},

	// Searching happens once on the protocol probe, then the adapter
	// answers directly.
	{Command: "0100", Response: "SEARCHING...\r7E8064100BE3EB811\r\r>"},
	{Command: "0100", Response: "7E8064100BE3EB811\r\r>"},
	{Command: "0120", Response: "7E806412080000000\r\r>"},

	// Mode 01 live data.
	{Command: "0101", Response: "7E806410182076504\r\r>"},
	{Command: "0103", Response: "7E80441030200\r\r>"},
	{Command: "0104", Response: "7E803410441\r\r>"},
	{Command: "0105", Response: "7E803410582\r\r>"},
	{Command: "0106", Response: "7E803410685\r\r>"},
	{Command: "010C", Response: "7E804410C1AF8\r\r>"},
	{Command: "010D", Response: "7E803410D00\r\r>"},
	{Command: "0111", Response: "7E80341112E\r\r>"},

	// Vehicle identification: VIN 1G1JC5444R7252367, ISO-TP multi-frame.
	{Command: "0902", Response: "7E81014490201314731\r7E8214A433534343452\r7E82237323532333637\r\r>"},
	{Command: "0904", Response: "7E8100B49040143414C\r7E8213132333435AAAA\r\r>"},

	// Trouble codes: P0300 and P0420 stored, none pending, P0420
	// permanent. The clear is acknowledged but never touches mode 0A.
	{Command: "03", Response: "7E806430203000420\r\r>"},
	{Command: "07", Response: "NO DATA\r\r>"},
	{Command: "0A", Response: "7E8044A010420\r\r>"},
	{Command: "04", Response: "7E80144\r\r>"},
}
