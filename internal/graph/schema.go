// Package graph serves the GraphQL query API, the WebSocket live feed, and
// the health endpoint. The schema mirrors the subgraph shape downstream
// consumers already query: entity lookups by ID, filtered collections with
// first/skip paging, and a _meta block for sync freshness.
package graph

import (
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

const schemaSource = `
"""
Arbitrary-precision integer, serialized as a decimal string.
"""
scalar BigInt

enum OrderDirection {
  asc
  desc
}

enum ApiCall_orderBy {
  id
  blockNumber
  timestamp
}

enum Event_orderBy {
  id
  blockNumber
  timestamp
}

input ApiCall_filter {
  emitter: String
  callId: String
  blockNumber_gte: BigInt
  blockNumber_lte: BigInt
}

"""
One proved API call, keyed by the transaction hash and log index of the
ApiCallProved event that attested it.
"""
type ApiCall {
  id: ID!
  callId: String!
  requestHash: String!
  responseHash: String!
  emitter: String!
  txHash: String!
  logIndex: Int!
  blockNumber: BigInt!
  timestamp: BigInt!
}

"""
A raw decoded log, kept for auditing alongside the typed entities.
"""
type Event {
  id: ID!
  contractName: String!
  contractAddress: String!
  eventName: String!
  eventSignature: String!
  txHash: String!
  logIndex: Int!
  blockNumber: BigInt!
  timestamp: BigInt!
  data: String!
}

type _Block_ {
  number: BigInt!
  hash: String
}

type _Meta_ {
  block: _Block_!
  hasIndexingErrors: Boolean!
}

type Query {
  apiCall(id: ID!): ApiCall
  apiCalls(
    first: Int = 100
    skip: Int = 0
    orderBy: ApiCall_orderBy = id
    orderDirection: OrderDirection = asc
    where: ApiCall_filter
  ): [ApiCall!]!
  apiCallCount: BigInt!
  events(
    first: Int = 100
    skip: Int = 0
    orderBy: Event_orderBy = id
    orderDirection: OrderDirection = asc
    contract: String
    eventName: String
  ): [Event!]!
  _meta: _Meta_
}
`

var schema = gqlparser.MustLoadSchema(&ast.Source{
	Name:  "schema.graphql",
	Input: schemaSource,
})

// Schema returns the parsed GraphQL schema.
func Schema() *ast.Schema {
	return schema
}
