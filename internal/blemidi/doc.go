// Package blemidi is the central side of BLE-MIDI.
//
// A Subscriber performs the GATT handshake on a connected device.Transport
// (resolve the MIDI service and I/O characteristic, enable notifications,
// write the CCCD, read once). A Session owns one midi.Decoder per peer and
// forwards decoded events to an EventListener. Central keeps the sessions of
// all attached peers.
package blemidi
