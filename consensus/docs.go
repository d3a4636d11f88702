package consensus

//
//                      +-----------------+
//   candidate block -> |   RouteBlock    |  any FINANCIAL tx -> financial pool
//                      +--------+--------+  otherwise        -> message pool
//                               |
//                               v
//                      +-----------------+
//                      |  active members |  < RequiredValidators: ErrNotEnoughValidators
//                      +--------+--------+
//                               |  Vote() fan-out, one goroutine per validator
//                               v
//                      +-----------------+
//                      |  collectVotes   |  stops at VoteTimeout, or early once
//                      +--------+--------+  the threshold is reached or unreachable
//                               |
//                               v
//                      +-----------------+
//                      |  Round closed   |  approval = approvals / pool size
//                      +--------+--------+  recorded in history either way
//                               |
//              +----------------+----------------+
//              v                                 v
//          accepted                       ErrThresholdNotMet
//   (node appends + broadcasts)            (block discarded)
//
// ConsensusManager - runs rounds and owns the round history
//	- ValidatorPool - registered validators split by pool, with the active set
//	- Voter - in-process checks, or remote VALIDATION_REQUEST/RESPONSE when the
//	  validator is hosted by a peer
