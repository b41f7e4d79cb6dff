// Package config defines the configuration for a plexus node.
//
// Regardless of how plexus is started, directly from Go code or as a standalone
// process from the command line, it uses the Config object defined in this
// package to store and forward configuration options. On top of these
// configuration options, plexus relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional configuration
// files:
//
//  priv_key // a plain text file containing the raw private key (cf. plexus keygen).
//  bootstrap.json // (optional) a JSON file containing the bootstrap peers.
//  cert.pem // (optional) an x509 certificate for the WebRTC signaling server.
package config
