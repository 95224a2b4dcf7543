package ingest

// uploaderPage is the static uploader page served at GET /{token}/, kept
// as a single self-contained document rather than separate JS/CSS assets
// since the ingest surface has exactly one route to style, per spec.md
// §4.7.
const uploaderPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Send a file</title>
</head>
<body>
<input type="file" id="file">
<progress id="bar" value="0" max="100"></progress>
<pre id="status"></pre>
<script>
const fileInput = document.getElementById('file');
const bar = document.getElementById('bar');
const status = document.getElementById('status');

fileInput.addEventListener('change', () => {
  const file = fileInput.files[0];
  if (!file) return;
  const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + location.pathname + 'ws');
  ws.binaryType = 'arraybuffer';

  ws.onopen = () => {
    ws.send(JSON.stringify({type: 'file_info', file_name: file.name, file_size: file.size}));
  };

  ws.onmessage = (evt) => {
    const msg = JSON.parse(evt.data);
    if (msg.type === 'accepted') {
      streamFile(ws, file);
    } else if (msg.type === 'rejected') {
      status.textContent = 'Rejected: ' + msg.reason;
      ws.close();
    } else if (msg.type === 'progress') {
      bar.value = Math.floor(100 * msg.received_bytes / file.size);
    } else if (msg.type === 'complete') {
      bar.value = 100;
      status.textContent = 'Done';
    } else if (msg.type === 'error') {
      status.textContent = 'Error: ' + msg.message;
    }
  };
});

function streamFile(ws, file) {
  const chunkSize = 256 * 1024;
  let offset = 0;
  const reader = new FileReader();
  reader.onload = () => {
    ws.send(reader.result);
    offset += reader.result.byteLength;
    if (offset < file.size) {
      readNext();
    }
  };
  function readNext() {
    reader.readAsArrayBuffer(file.slice(offset, offset + chunkSize));
  }
  readNext();
}
</script>
</body>
</html>
`
