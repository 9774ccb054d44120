package worker

// Redeliver exposes the redelivery decision to tests.
var Redeliver = redeliver
