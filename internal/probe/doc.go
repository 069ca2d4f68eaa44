// Package probe inspects studio model headers without decompiling them.
//
// Both engines start a .mdl with a four-byte ident and a version: GoldSrc
// models are version 10, Source models 44 and up. Source headers carry a
// checksum before the internal name; GoldSrc headers go straight to it.
// Sequence group files ("IDSQ") share the layout but hold no geometry.
package probe
