package api

// Schema is the graph-gophers/graphql-go SDL backing Resolver, covering the §4.10
// GraphQL Query surface: contract_info, contract_state, transactions, events.
// graph-gophers/graphql-go is schema-first and reflection-based, requiring no code
// generation step (unlike 99designs/gqlgen, used elsewhere in the retrieved pack but
// unusable here since we cannot run a generator), per SPEC_FULL.md's domain stack.
const Schema = `
	schema {
		query: Query
	}

	type Query {
		contractInfo(address: String!): ContractInfo
		contractState(address: String!, blockNumber: Int): ContractState
		transactions(address: String!, limit: Int, offset: Int): [Event!]!
		events(chain: String, eventType: String, fromBlock: Int, toBlock: Int, limit: Int, offset: Int): [Event!]!
	}

	type ContractInfo {
		address: String!
		chain: String!
		eventCount: Int!
		latestBlock: Int!
	}

	type ContractState {
		address: String!
		blockNumber: Int!
		libraries: [String!]!
		currentOwner: String!
	}

	type Event {
		id: String!
		chain: String!
		blockNumber: Int!
		blockHash: String!
		txHash: String!
		logIndex: Int!
		timestamp: String!
		eventType: String!
		rawData: String!
	}
`
