package repository

// RequireDB exposes the container-backed store to the external test package
var RequireDB = requireDB
