// Package denorm keeps the property summaries embedded in clients and cities, and
// the client and city values copied onto properties, in sync with the canonical
// records.
//
// Each handler turns one [Mutation] into a [Plan] of writes:
//
//   - [PropertyCreated] embeds a ClientSummary and a CitySummary of the new property.
//   - [CityRenamed] copies a new city name onto the city's clients and properties.
//   - [ClientChanged] copies changed contact fields onto the client's properties
//     and onto their summaries embedded in each city.
//   - [PropertyDeleted] removes both summaries of the deleted property.
//
// Every field write is an unconditional overwrite of the new value, so replaying
// a mutation yields the same end state. Plans other than PropertyCreated's are
// applied with one atomic write. PropertyCreated issues two independent writes
// unless [Options].AtomicCreate is set; [Engine.Resync] repairs a property whose
// summaries were left incomplete.
//
// A property moved to another client or city is reported and not propagated.
package denorm
