// Package config loads and validates the cluster configuration shared by
// robot and screen processes.
//
// Configuration is layered: compiled defaults, then an optional YAML file
// (path from GELATO_CONFIG, default "gelato.yaml"). Every process in a
// cluster must load the same file — addressing, flavor quantities and
// timers are all derived from it.
//
// Addressing: robots bind 127.0.0.1:<robot_base_port+id>, the sitting
// leader additionally binds 127.0.0.1:<leader_base_port+id>, and screens
// bind 127.0.0.1:<screen_base_port+id>. IDs are zero-based and bounded by
// max_robots / max_screens.
package config
