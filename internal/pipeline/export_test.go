package pipeline

// WithConsumer exposes withConsumer to the external test package.
var WithConsumer = withConsumer
