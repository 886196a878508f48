// Package mac configures the Ethernet MAC block: station address, frame
// filtering, speed and duplex. It also drives the MII management interface
// used to query the PHY.
package mac
