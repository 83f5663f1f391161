// Package subgraph fetches lending-protocol transactions from a GraphQL
// subgraph and flattens them into events.
package subgraph

// DefaultPageSize is the largest page the hosted subgraph serves per request.
const DefaultPageSize = 1000

// transactionFields selects every field the event model reads. Each concrete
// transaction type contributes its own distinguishing fields.
const transactionFields = `
    id
    timestamp
    user {
      id
    }
    ... on Borrow {
      reserve {
        id
        symbol
      }
      amount
      borrowRate
      borrowRateMode
      accruedBorrowInterest
      pool {
        id
        lendingPool
      }
    }
    ... on Repay {
      pool {
        id
        lendingPool
      }
      amountAfterFee
      fee
      reserve {
        id
        symbol
      }
    }
    ... on LiquidationCall {
      principalAmount
      liquidator
      pool {
        id
        lendingPool
      }
      collateralAmount
      collateralReserve {
        id
        underlyingAsset
      }
      principalReserve {
        id
        underlyingAsset
      }
    }
    ... on Deposit {
      amount
      pool {
        id
        lendingPool
      }
      reserve {
        id
        symbol
      }
    }`

// pageQuery returns the newest transactions strictly older than $before.
const pageQuery = `query UserTransactions($first: Int!, $before: BigInt!) {
  userTransactions(first: $first, orderBy: timestamp, orderDirection: desc, where: {timestamp_lt: $before}) {` +
	transactionFields + `
  }
}`

// liveQuery streams transactions strictly newer than $after, oldest first.
const liveQuery = `subscription LiveUserTransactions($first: Int!, $after: BigInt!) {
  userTransactions(first: $first, orderBy: timestamp, orderDirection: asc, where: {timestamp_gt: $after}) {` +
	transactionFields + `
  }
}`

// graphQLRequest is the POST body of a GraphQL operation.
type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphQLError is one entry of a GraphQL "errors" array.
type graphQLError struct {
	Message string `json:"message"`
}

// transactionsData is the "data" object of both operations.
type transactionsData struct {
	UserTransactions []map[string]any `json:"userTransactions"`
}
