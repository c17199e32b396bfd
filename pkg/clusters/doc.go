// Package clusters holds the command payloads of the clusters a
// commissioner drives.
//
// # Subpackages
//
// Each subpackage describes one cluster on the root endpoint:
//   - clusters/generalcommissioning: General Commissioning (0x0030)
//   - clusters/networkcommissioning: Network Commissioning (0x0031)
//   - clusters/operationalcredentials: Operational Credentials (0x003E)
//
// Requests and responses are plain structs. Fields() builds the TLV
// structure carried in an InvokeRequest or InvokeResponse and the
// matching Decode function parses one. Both sides of the exchange use
// them: the commissioner to build requests and parse answers, the device
// simulator the other way round.
//
// # Helpers
//
// This package provides the field reader shared by the decoders.
package clusters
