package media

// Internal functions exposed for black-box testing.
var ParseSilenceOutput = parseSilenceOutput

var FormatSeconds = formatSeconds
