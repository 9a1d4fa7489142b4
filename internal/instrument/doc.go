// Package instrument assembles properties into a driver hierarchy.
//
// A driver is the root of a tree of property owners. Subsystems group
// related properties under a dotted path, and channel groups stamp out one
// owner per channel id on demand:
//
//	Driver ("psu")
//	  ├── properties            psu.voltage, psu.current
//	  ├── Subsystem ("ovp")     psu.ovp.level, psu.ovp.enabled
//	  └── ChannelGroup ("out")  psu.out[1].enabled, psu.out[2].enabled
//
// Every owner in the tree shares the driver's operation lock, so a custom
// hook on one property can read or write another property on any owner
// without deadlocking. Each owner carries its own last-known-value cache,
// runtime hook patches, and resolved range validators; transport traffic
// funnels through the driver, with channel owners rewriting commands to
// address their channel id.
//
// Cache maintenance and inspection accept dotted paths: a bare property
// name, "subsystem.property", "group.property" (all instantiated channels),
// a subtree name, or everything at once.
package instrument
