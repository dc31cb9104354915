// Package harness replays scenario files into a fresh graph and checks
// what the query, times and diff operations see afterwards.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: package_upgrade
//	description: "pkg 1.0 is replaced by 1.1"
//	steps:
//	  - at: 1000
//	    entities:
//	      - type: Host
//	        props: { hostname: web1, environment: 1-prod, kernel: "5.4" }
//	        children:
//	          aptpackages:
//	            - type: AptPackage
//	              props: { name: pkg, version: "1.0" }
//	assertions:
//	  - type: query
//	    label: AptPackage
//	    at: 1000
//	    filters:
//	      - { on: Host, prop: hostname, op: "=", value: web1 }
//	    expect: [pkg-1.0]
//	  - type: diff
//	    label: Host
//	    id: web1-1-prod
//	    left: 1000
//	    right: 2000
//	    expect: [Host:web1-1-prod, AptPackage:pkg-1.0, AptPackage:pkg-1.1]
//
// Each step writes its entities as of at. An entity's children replace
// the open relationships of their role, so a step describes the full
// snapshot of every subtree it mentions.
//
// # Assertion Types
//
//   - query: target identities at an instant, in order
//   - count: number of rows at an instant
//   - times: change instants of a node, newest first
//   - diff: "Label:identity" of every node in a diff, in node order
//   - state: a subset of one entity's properties at an instant
//
// Each assertion also records what it observed; RunWithGolden compares
// those observations against a golden file.
package harness
