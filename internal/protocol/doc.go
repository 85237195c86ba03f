// Package protocol owns the radio wire contract: the fixed-width frame bodies
// carried inside the transceiver's AT command lines.
//
// Outbound lines are `AT+SEND=0,<len>,<body>\r\n`; inbound lines carry
// `+RCV=<addr>,<len>,<body>` followed by optional signal fields and CRLF.
// Bodies are concatenated fixed-width fields with no internal delimiter, so
// every field is sliced at a fixed offset and the payload may contain commas.
package protocol
