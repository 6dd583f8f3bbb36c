// Package flavor defines the closed flavor enumeration and the circulating
// flavor token, the combined mutual-exclusion lock and stock counter for a
// single flavor.
//
// Exactly one token per flavor travels the robot ring at steady state. A
// robot that holds the token has exclusive access to that flavor's stock;
// everyone else only ever sees point-in-time observations of it. The
// Ledger type records those observations so that a lost token can be
// reconstructed from the most recent view any robot retained.
//
// Token reconstruction after loss:
//
//	┌────────────────────────────────────────────┐
//	│  Probe circulates, collecting ProbeEntry   │
//	│  {id, version, remaining} from each robot  │
//	├────────────────────────────────────────────┤
//	│  Rebuild picks highest version             │
//	│  (ties: lowest remaining), then emits a    │
//	│  fresh token at version max+1              │
//	└────────────────────────────────────────────┘
//
// Remaining quantities only ever decrease within a token generation, so
// picking the lowest remaining among equal versions can never resurrect
// stock that was already served.
package flavor
